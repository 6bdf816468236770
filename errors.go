/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

func newLogger(cfg *Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}

	level := zerolog.InfoLevel
	if cfg.verbose {
		level = zerolog.DebugLevel
	}

	zerolog.TimeFieldFormat = logDate

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}

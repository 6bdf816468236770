package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fedemaldo95/geo-asu/games/geoguess/room"
)

type Config struct {
	bind    string
	port    int
	prefix  string
	profile bool
	tlsCert string
	tlsKey  string
	verbose bool
	version bool

	rounds      int
	maxPoints   int
	minPlayers  int
	timeLimit   time.Duration
	roundTimer  bool
	idleTimeout time.Duration
	sweepPeriod time.Duration
	cities      string
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.rounds < 1 {
		return fmt.Errorf("invalid rounds (must be at least 1): %d", c.rounds)
	}
	if c.maxPoints < 1 {
		return fmt.Errorf("invalid max points (must be at least 1): %d", c.maxPoints)
	}
	if c.minPlayers < 1 {
		return fmt.Errorf("invalid min players (must be at least 1): %d", c.minPlayers)
	}
	if c.timeLimit <= 0 {
		return fmt.Errorf("invalid time limit (must be positive): %s", c.timeLimit)
	}
	if c.idleTimeout <= 0 || c.sweepPeriod <= 0 {
		return errors.New("both --idle-timeout and --sweep-period must be positive")
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func (c *Config) settings() room.Settings {
	return room.Settings{
		Rounds:     c.rounds,
		MaxPoints:  c.maxPoints,
		MinPlayers: c.minPlayers,
	}
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("GEOASU")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "geo-asu",
		Short:         "A multiplayer guess-the-place game, played in the browser.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: GEOASU_BIND)")
	fs.StringVar(&cfg.cities, "cities", "", "file listing the city areas rounds are drawn from (env: GEOASU_CITIES)")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", 30*time.Minute, "time before idle rooms are closed (env: GEOASU_IDLE_TIMEOUT)")
	fs.IntVar(&cfg.maxPoints, "max-points", 5000, "points awarded for a perfect guess (env: GEOASU_MAX_POINTS)")
	fs.IntVar(&cfg.minPlayers, "min-players", 2, "players required to start a game (env: GEOASU_MIN_PLAYERS)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: GEOASU_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: GEOASU_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: GEOASU_PROFILE)")
	fs.BoolVar(&cfg.roundTimer, "round-timer", false, "time out slow players on the server instead of trusting clients (env: GEOASU_ROUND_TIMER)")
	fs.IntVar(&cfg.rounds, "rounds", 5, "rounds per game (env: GEOASU_ROUNDS)")
	fs.DurationVar(&cfg.sweepPeriod, "sweep-period", 5*time.Minute, "how often idle rooms are looked for (env: GEOASU_SWEEP_PERIOD)")
	fs.DurationVar(&cfg.timeLimit, "time-limit", 60*time.Second, "time allowed for each guess (env: GEOASU_TIME_LIMIT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: GEOASU_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: GEOASU_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: GEOASU_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: GEOASU_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("geo-asu v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

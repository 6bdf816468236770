package locations

// DefaultCities is used when no catalog file is configured.
var DefaultCities = []City{
	{Name: "Asunción", MinLat: -25.340, MaxLat: -25.240, MinLng: -57.660, MaxLng: -57.540},
	{Name: "Buenos Aires", MinLat: -34.680, MaxLat: -34.540, MinLng: -58.510, MaxLng: -58.360},
	{Name: "Montevideo", MinLat: -34.910, MaxLat: -34.840, MinLng: -56.230, MaxLng: -56.080},
	{Name: "São Paulo", MinLat: -23.660, MaxLat: -23.470, MinLng: -46.780, MaxLng: -46.520},
	{Name: "Santiago", MinLat: -33.530, MaxLat: -33.390, MinLng: -70.730, MaxLng: -70.560},
	{Name: "Lima", MinLat: -12.140, MaxLat: -12.000, MinLng: -77.080, MaxLng: -76.960},
	{Name: "Bogotá", MinLat: 4.570, MaxLat: 4.740, MinLng: -74.140, MaxLng: -74.040},
	{Name: "Mexico City", MinLat: 19.340, MaxLat: 19.490, MinLng: -99.210, MaxLng: -99.090},
	{Name: "New York", MinLat: 40.700, MaxLat: 40.800, MinLng: -74.015, MaxLng: -73.930},
	{Name: "London", MinLat: 51.480, MaxLat: 51.550, MinLng: -0.200, MaxLng: -0.050},
	{Name: "Paris", MinLat: 48.830, MaxLat: 48.890, MinLng: 2.280, MaxLng: 2.400},
	{Name: "Madrid", MinLat: 40.380, MaxLat: 40.470, MinLng: -3.750, MaxLng: -3.650},
	{Name: "Rome", MinLat: 41.860, MaxLat: 41.930, MinLng: 12.450, MaxLng: 12.530},
	{Name: "Berlin", MinLat: 52.480, MaxLat: 52.550, MinLng: 13.330, MaxLng: 13.450},
	{Name: "Tokyo", MinLat: 35.640, MaxLat: 35.720, MinLng: 139.680, MaxLng: 139.800},
	{Name: "Sydney", MinLat: -33.920, MaxLat: -33.840, MinLng: 151.170, MaxLng: 151.250},
	{Name: "Cape Town", MinLat: -33.960, MaxLat: -33.900, MinLng: 18.400, MaxLng: 18.500},
}

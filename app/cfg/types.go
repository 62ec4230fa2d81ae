package cfg

type Cfg struct {
	// Database configuration
	DBPath string

	// Application configuration
	FeedsDir      string
	Port          string
	BaseUrl       string
	WorkerCount   int
	HarvestTick   int
	ExportTick    int
	APIAccessKey  string
	PrerenderUrl  string
	DefaultLocale string

	// Harvest tuning
	HarvestInterval      int
	MaxBackoff           int
	DisableThreshold     int
	FetchConnectTimeout  int
	FetchTimeout         int
	MaxRedirects         int
	MaxArticlesPerStream int

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}

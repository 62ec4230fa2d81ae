package subscription

// Subscription is one declarative feed definition loaded from the feeds
// directory. A subscription names its source, an optional selector rule for
// web sources, and the bucket plus exporter its articles flow into.
type Subscription struct {
	Title           string    `yaml:"title"`
	Description     string    `yaml:"description"`
	FeedURL         string    `yaml:"feed_url"`
	WebsiteURL      string    `yaml:"website_url"`
	Source          string    `yaml:"source"`
	HarvestInterval int       `yaml:"harvest_interval"`
	Prerender       bool      `yaml:"prerender"`
	Selectors       Selectors `yaml:"selectors"`
	Bucket          string    `yaml:"bucket"`
	Exporter        *Exporter `yaml:"exporter"`
}

type Selectors struct {
	Context            string `yaml:"context"`
	Link               string `yaml:"link"`
	Date               string `yaml:"date"`
	Pagination         string `yaml:"pagination"`
	ExtendContext      string `yaml:"extend_context"`
	DateIsStartOfEvent bool   `yaml:"date_is_start_of_event"`
}

type Exporter struct {
	Trigger      string `yaml:"trigger"`
	Schedule     string `yaml:"schedule"`
	LookAheadMin int    `yaml:"look_ahead_min"`
	SegmentSize  int    `yaml:"segment_size"`
}

package cli

// Flags holds all command-line flag values.
type Flags struct {
	// Persistent flags
	CfgFile       string
	APIKey        string
	Verbose       bool
	MaxConcurrent int
	MaxRPS        float64
	QuotaDB       string

	// md flags
	Output     string
	SourceLang string
	TargetLang string
	Recursive  bool

	// serve flags
	Host  string
	Port  int
	Debug bool
}

// NewFlags creates a new Flags instance with default values.
func NewFlags() *Flags {
	return &Flags{
		TargetLang: "zh",
		Host:       "0.0.0.0",
		Port:       8000,
	}
}

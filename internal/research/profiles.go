package research

import "time"

const (
	defaultMaxResultsPerSearch = 8
	defaultFetchTimeout        = 15 * time.Second
	maxConfigIterations        = 10
	maxConfigSubQuestions      = 10
	maxConfigPages             = 10
	maxConfigResults           = 20
)

// Config carries the caps and switches of one orchestrator. Zero values mean
// "use the default".
type Config struct {
	MaxSubQuestions      int
	MaxIterations        int
	MaxPagesPerIteration int
	MaxResultsPerSearch  int
	// Engines lists engine ids the search executor serves; the first is the default.
	Engines     []string
	DeniedHosts []string

	RequireBrowseApproval   bool
	RequireContinueApproval bool

	GenerationTimeout time.Duration
	SearchTimeout     time.Duration
	FetchTimeout      time.Duration
	// RunTimeout bounds the whole run; zero means unbounded.
	RunTimeout time.Duration

	MinContentLength int
	MaxContentChars  int
}

func DefaultConfig() Config {
	return Config{
		MaxSubQuestions:      defaultMaxSubQuestions,
		MaxIterations:        defaultMaxIterations,
		MaxPagesPerIteration: defaultMaxPagesPerIteration,
		MaxResultsPerSearch:  defaultMaxResultsPerSearch,
		Engines:              []string{"brave"},
		GenerationTimeout:    defaultGenerationTimeout,
		SearchTimeout:        defaultSearchTimeout,
		FetchTimeout:         defaultFetchTimeout,
		MinContentLength:     defaultMinContentLength,
		MaxContentChars:      defaultMaxContentChars,
	}
}

// ResolveConfig layers the positive fields of overrides over DefaultConfig and
// clamps caps into their supported ranges.
func ResolveConfig(overrides Config) Config {
	resolved := DefaultConfig()

	if overrides.MaxSubQuestions > 0 {
		resolved.MaxSubQuestions = overrides.MaxSubQuestions
	}
	if overrides.MaxIterations > 0 {
		resolved.MaxIterations = overrides.MaxIterations
	}
	if overrides.MaxPagesPerIteration > 0 {
		resolved.MaxPagesPerIteration = overrides.MaxPagesPerIteration
	}
	if overrides.MaxResultsPerSearch > 0 {
		resolved.MaxResultsPerSearch = overrides.MaxResultsPerSearch
	}
	if engines := normalizeEngineIDs(overrides.Engines); len(engines) > 0 {
		resolved.Engines = engines
	}
	if len(overrides.DeniedHosts) > 0 {
		resolved.DeniedHosts = append([]string{}, overrides.DeniedHosts...)
	}
	resolved.RequireBrowseApproval = overrides.RequireBrowseApproval
	resolved.RequireContinueApproval = overrides.RequireContinueApproval
	if overrides.GenerationTimeout > 0 {
		resolved.GenerationTimeout = overrides.GenerationTimeout
	}
	if overrides.SearchTimeout > 0 {
		resolved.SearchTimeout = overrides.SearchTimeout
	}
	if overrides.FetchTimeout > 0 {
		resolved.FetchTimeout = overrides.FetchTimeout
	}
	if overrides.RunTimeout > 0 {
		resolved.RunTimeout = overrides.RunTimeout
	}
	if overrides.MinContentLength > 0 {
		resolved.MinContentLength = overrides.MinContentLength
	}
	if overrides.MaxContentChars > 0 {
		resolved.MaxContentChars = overrides.MaxContentChars
	}

	resolved.MaxSubQuestions = clampInt(resolved.MaxSubQuestions, 1, maxConfigSubQuestions)
	resolved.MaxIterations = clampInt(resolved.MaxIterations, 1, maxConfigIterations)
	resolved.MaxPagesPerIteration = clampInt(resolved.MaxPagesPerIteration, 1, maxConfigPages)
	resolved.MaxResultsPerSearch = clampInt(resolved.MaxResultsPerSearch, 1, maxConfigResults)
	return resolved
}

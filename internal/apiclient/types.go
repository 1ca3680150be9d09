package apiclient

// ScoutStatus is the lifecycle state of a scout job.
type ScoutStatus string

const (
	ScoutQueued  ScoutStatus = "QUEUED"
	ScoutRunning ScoutStatus = "RUNNING"
	ScoutDone    ScoutStatus = "DONE"
	ScoutFailed  ScoutStatus = "FAILED"
)

// Terminal reports whether the scout will not change state again.
func (s ScoutStatus) Terminal() bool {
	return s == ScoutDone || s == ScoutFailed
}

// SearchIntent is the backend's structured reading of a scout prompt.
type SearchIntent struct {
	WantedTags   []string `json:"wantedTags"`
	ExcludedTags []string `json:"excludedTags"`
	MinFollowers *int     `json:"minFollowers"`
	MaxFollowers *int     `json:"maxFollowers"`
	WantedTypes  []string `json:"wantedTypes"`
	Language     *string  `json:"language"`
	Brand        *string  `json:"brand"`
	MaxAdRatio   *float64 `json:"maxAdRatio"`

	RecentN              *int  `json:"recentN,omitempty"`
	PreferHighRR         *bool `json:"preferHighRR,omitempty"`
	PreferHighRF         *bool `json:"preferHighRF,omitempty"`
	PreferLowAd          *bool `json:"preferLowAd,omitempty"`
	RequireRegularUpload *bool `json:"requireRegularUpload,omitempty"`

	Notes *string `json:"notes"`
}

// MatchResult is one ranked candidate of a finished scout.
type MatchResult struct {
	Username        string   `json:"username"`
	IGUserID        string   `json:"igUserId,omitempty"`
	FollowersCount  int      `json:"followersCount"`
	Score           float64  `json:"score"`
	Reasons         []string `json:"reasons"`
	Badges          []string `json:"badges,omitempty"`
	EvidencePostIDs []string `json:"evidencePostIds,omitempty"`
}

// ScoutSummary is a scout as listed.
type ScoutSummary struct {
	ID        string        `json:"id"`
	Status    ScoutStatus   `json:"status"`
	Prompt    string        `json:"prompt"`
	Intent    *SearchIntent `json:"intent"`
	CreatedAt string        `json:"createdAt"`
	UpdatedAt string        `json:"updatedAt"`
}

// ScoutDetail is a scout with its results.
type ScoutDetail struct {
	ScoutSummary
	Results      []MatchResult `json:"results"`
	ErrorMessage *string       `json:"errorMessage,omitempty"`
}

// Report identifies a generated report.
type Report struct {
	ReportID  string `json:"reportId"`
	ScoutID   string `json:"scoutId"`
	CreatedAt string `json:"createdAt"`
}

// User is the authenticated account.
type User struct {
	Username string `json:"username"`
}

// LoginResponse is returned by Login.
type LoginResponse struct {
	OK       bool   `json:"ok"`
	Username string `json:"username"`
}

// RegisterResponse is returned by Register. The tokens are also set as
// cookies; callers should not need them.
type RegisterResponse struct {
	OK           bool   `json:"ok"`
	Username     string `json:"username"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

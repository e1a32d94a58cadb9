package models

// User holds the directory fields the pipeline reads. Email, Phone and
// Location may be stored encrypted.
type User struct {
	Username    string `json:"username"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Location    string `json:"location"`
	Occupation  string `json:"occupation"`
	BirthMonth  int    `json:"birthMonth,omitempty"`
	BirthYear   int    `json:"birthYear,omitempty"`
	DeviceToken string `json:"deviceToken,omitempty"`
	Status      string `json:"status"`
}

var DefaultQuietExceptions = []string{"pii_request", "suspicious_login"}

type Preferences struct {
	Username        string   `json:"username"`
	QuietEnabled    bool     `json:"quietEnabled"`
	QuietStart      string   `json:"quietStart"`
	QuietEnd        string   `json:"quietEnd"`
	Timezone        string   `json:"timezone"`
	QuietExceptions []string `json:"quietExceptions"`
}

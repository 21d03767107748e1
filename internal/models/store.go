package models

// Store is a tenant with its own widget, documents and credit allowance
type Store struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Plan           string   `json:"plan"`
	AllowedOrigins []string `json:"allowed_origins"`
	SystemPrompt   string   `json:"system_prompt,omitempty"`
	NotifyEmail    string   `json:"notify_email,omitempty"`
}

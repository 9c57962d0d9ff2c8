package auth

const (
	// ProviderLocal marks identities established by password login.
	ProviderLocal = "local"
	// ProviderGoogle marks identities established through the external provider.
	ProviderGoogle = "google"
)

// SessionIdentity is the authenticated principal attached to a request. It is never
// stored server-side; the session cookie carries it as signed claims.
type SessionIdentity struct {
	AccountID     string `json:"id,omitempty"`
	Email         string `json:"email"`
	DisplayName   string `json:"name"`
	AvatarURL     string `json:"picture,omitempty"`
	Provider      string `json:"provider"`
	Authenticated bool   `json:"authenticated"`
}

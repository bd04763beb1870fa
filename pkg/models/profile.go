package models

// Profile is the subset of an account's identity record the feed cares
// about. AvatarURL may legitimately be empty: a profile that exists but has
// no avatar yet is indistinguishable from one that was never filled in.
type Profile struct {
	Account   string `json:"account"`
	Sender    string `json:"sender,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

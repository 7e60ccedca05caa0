package model

// RemoteArtifact is the stored-photo reference returned by the upload step.
// It only lives for one delivery attempt and is never persisted.
type RemoteArtifact struct {
	URL string `json:"foto_url"`
	ID  string `json:"foto_id"`
}

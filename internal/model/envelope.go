package model

// MentionEnvelope is the payload consumed from the mentions Kafka topic.
// It mirrors the HTTP intake body so both paths feed the same service.
type MentionEnvelope struct {
	EntityID     string `json:"entityId"`
	ContentType  string `json:"contentType"`
	ContentID    string `json:"contentId"`
	ContentURL   string `json:"contentUrl"`
	ContentTitle string `json:"contentTitle,omitempty"`
	Intent       string `json:"intent,omitempty"`
	CreatedBy    string `json:"createdBy,omitempty"`
}

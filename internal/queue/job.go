package queue

// RenderJob is what we push to Redis Streams.
// No asset bytes here; workers fetch staged frames by key from the teaser row.
type RenderJob struct {
	TeaserID string `json:"teaser_id"`
}

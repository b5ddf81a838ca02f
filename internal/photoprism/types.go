package photoprism

// Album is the subset of a PhotoPrism album the publisher reads and writes.
// Type is "album" for manually curated albums.
type Album struct {
	UID         string `json:"UID"`
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Type        string `json:"Type"`
}

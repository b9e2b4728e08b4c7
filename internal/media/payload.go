package media

// Cue is one parsed text track cue.
type Cue struct {
	ID       string  `json:"id,omitempty"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Text     string  `json:"text"`
	Settings string  `json:"settings,omitempty"`
}

// Thumbnail is one decoded thumbnail tile sheet.
type Thumbnail struct {
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Format string  `json:"format"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Size   int     `json:"size"`
}

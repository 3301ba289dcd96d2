package handler

import "io"

type CreateTeaserParams struct {
	Script      string `validate:"required,max=500"`     // teasers.script (NOT NULL)
	OverlayText string `validate:"omitempty,max=80"`     // teasers.overlay_text
	BrandColor  string `validate:"required,hexcolor"`    // teasers.brand_color
	FontSize    int    `validate:"gte=36,lte=160"`       // overlay size in px
	Duration    int    `validate:"gte=5,lte=10"`         // teaser length in seconds
	FPS         int    `validate:"oneof=24 25 30"`       // output frame rate
	Mode        string `validate:"oneof=local remote"`   // generation backend
}

// ImageUpload is one sniffed reference image, rewound to the start.
type ImageUpload struct {
	Reader io.Reader
	Ext    string
}

// MusicUpload is the optional background track, rewound to the start.
type MusicUpload struct {
	Reader io.Reader
	Ext    string
}

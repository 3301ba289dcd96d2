package config

import (
	"encoding/json"
	"os"
)

// Create new config instance
func NewConfig() *Config {
	return &Config{}
}

// Load configuration file in json format
func (c *Config) Read(file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, c); err != nil {
		return err
	}
	c.applyDefaults()
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Upload.MaxImages == 0 {
		c.Upload.MaxImages = 4
	}
	if c.Render.OutputDir == "" {
		c.Render.OutputDir = "outputs"
	}
	if c.Render.FFmpegPath == "" {
		c.Render.FFmpegPath = "ffmpeg"
	}
	if c.Render.FFprobePath == "" {
		c.Render.FFprobePath = "ffprobe"
	}
	if c.Render.CRF == 0 {
		c.Render.CRF = 18
	}
	if c.Render.Preset == "" {
		c.Render.Preset = "medium"
	}
	if c.Render.CrossfadeSeconds == 0 {
		c.Render.CrossfadeSeconds = 0.5
	}
	if c.Render.ShareLinkTTLSec == 0 {
		c.Render.ShareLinkTTLSec = 24 * 60 * 60
	}
	if c.Dataset.BaseURL == "" {
		c.Dataset.BaseURL = "https://www.kaggle.com/api/v1"
	}
	if c.Dataset.DownloadDir == "" {
		c.Dataset.DownloadDir = "data"
	}
	if c.Dataset.MaxRetries == 0 {
		c.Dataset.MaxRetries = 2
	}
}

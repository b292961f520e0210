package view

import (
	"embed"
	"io/fs"
)

//go:embed static/*
var static embed.FS

//go:embed templates/*.tmpl
var templates embed.FS

// StaticFS exposes the embedded stylesheet and images.
func StaticFS() (fs.FS, error) {
	return fs.Sub(static, "static")
}

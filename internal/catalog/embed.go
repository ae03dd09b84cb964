package catalog

import (
	"embed"
	"io/fs"
)

//go:embed catalogs/*.yaml
var embedded embed.FS

// Embedded returns the catalogs bundled with the binary, laid out as <provider>.yaml.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "catalogs")
	if err != nil {
		// fs.Sub only fails on an invalid path, and "catalogs" is a constant.
		panic(err)
	}
	return sub
}

package plugin

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// InfoFile is the name of the optional per-plugin metadata file.
const InfoFile = "plugin.info"

// ParseInfo reads line-oriented "key: value" metadata. Only the dependencies,
// author and description keys are recognized; anything else is ignored.
func ParseInfo(r io.Reader) (Metadata, error) {
	var md Metadata

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch strings.ToLower(strings.TrimSpace(key)) {
		case "dependencies":
			md.Dependencies = splitDependencies(value)
		case "author":
			md.Author = value
		case "description":
			md.Description = value
		}
	}
	if err := sc.Err(); err != nil {
		return Metadata{}, fmt.Errorf("read %s: %w", InfoFile, err)
	}

	return md, nil
}

// ReadInfo parses path. A missing file yields empty metadata and found=false.
func ReadInfo(path string) (md Metadata, found bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, false, nil
		}
		return Metadata{}, false, err
	}
	defer f.Close()

	md, err = ParseInfo(f)
	if err != nil {
		return Metadata{}, true, err
	}
	return md, true, nil
}

func splitDependencies(value string) []string {
	var deps []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			deps = append(deps, part)
		}
	}
	return deps
}

// Package output persists an identifier collection to a flat file.
//
// The default format writes one identifier per line, UTF-8, each line
// terminated by "\n". The comma format reproduces the legacy rendering
// (identifiers joined by "," with no trailing newline). JSON and YAML write a
// single array/sequence.
package output

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Format is an output encoding.
type Format string

const (
	FormatLines Format = "lines"
	FormatComma Format = "comma"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// Formats lists the supported formats.
var Formats = []Format{FormatLines, FormatComma, FormatJSON, FormatYAML}

// ParseFormat parses a format name (case-insensitive). Empty selects lines.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f == "" {
		return FormatLines, nil
	}
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output format %q (want lines, comma, json or yaml)", s)
}

// FormatFromPath guesses a format from the file extension, falling back to lines.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	case ".csv":
		return FormatComma
	default:
		return FormatLines
	}
}

// PersistenceError reports a failure to write or read the output file.
type PersistenceError struct {
	Path string
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Encode writes ids to w in the given format. The text formats reject
// identifiers that Decode could not return unchanged.
func Encode(w io.Writer, ids []string, format Format) error {
	switch format {
	case FormatLines, "":
		bw := bufio.NewWriter(w)
		for _, id := range ids {
			if err := checkText(id, "\r\n"); err != nil {
				return err
			}
			bw.WriteString(id)
			bw.WriteByte('\n')
		}
		return bw.Flush()
	case FormatComma:
		for _, id := range ids {
			if err := checkText(id, ","); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, strings.Join(ids, ","))
		return err
	case FormatJSON:
		if ids == nil {
			ids = []string{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ids)
	case FormatYAML:
		if ids == nil {
			ids = []string{}
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(ids); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// checkText rejects empty identifiers, surrounding whitespace and delimiters.
func checkText(id, delims string) error {
	switch {
	case id == "":
		return errors.New("empty identifier")
	case strings.TrimSpace(id) != id:
		return fmt.Errorf("identifier %q has leading or trailing whitespace", id)
	case strings.ContainsAny(id, delims):
		return fmt.Errorf("identifier %q contains the delimiter", id)
	}
	return nil
}

// Decode reads identifiers written by Encode.
func Decode(r io.Reader, format Format) ([]string, error) {
	switch format {
	case FormatLines, "":
		ids := []string{}
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := strings.TrimSuffix(sc.Text(), "\r")
			if line == "" {
				continue
			}
			ids = append(ids, line)
		}
		return ids, sc.Err()
	case FormatComma:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			return []string{}, nil
		}
		return strings.Split(string(data), ","), nil
	case FormatJSON:
		ids := []string{}
		if err := json.NewDecoder(r).Decode(&ids); err != nil {
			return nil, err
		}
		return ids, nil
	case FormatYAML:
		ids := []string{}
		if err := yaml.NewDecoder(r).Decode(&ids); err != nil && err != io.EOF {
			return nil, err
		}
		return ids, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// Write atomically writes ids to path. Parent directories are created. The
// file is written to a temp file in the same directory and renamed into
// place, so readers never see a partial file.
func Write(path string, ids []string, format Format) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &PersistenceError{Path: path, Op: "create directory", Err: err}
	}

	tmpFile, err := os.CreateTemp(dir, ".pdb-ids-*.tmp")
	if err != nil {
		return &PersistenceError{Path: path, Op: "create temp file", Err: err}
	}
	tmpPath := tmpFile.Name()

	encErr := Encode(tmpFile, ids, format)
	closeErr := tmpFile.Close()
	if encErr != nil {
		os.Remove(tmpPath)
		return &PersistenceError{Path: path, Op: "write", Err: encErr}
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return &PersistenceError{Path: path, Op: "close temp file", Err: closeErr}
	}

	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return &PersistenceError{Path: path, Op: "chmod", Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &PersistenceError{Path: path, Op: "rename", Err: err}
	}
	return nil
}

// Read loads identifiers previously written with Write.
func Read(path string, format Format) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &PersistenceError{Path: path, Op: "open", Err: err}
	}
	defer f.Close()

	ids, err := Decode(f, format)
	if err != nil {
		return nil, &PersistenceError{Path: path, Op: "decode", Err: err}
	}
	return ids, nil
}

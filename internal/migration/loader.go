package migration

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// filenamePattern matches migration files of the form
//
//	{version}_{name}.sql  (e.g., 001_create_users.sql)
//
// where version is a non-negative integer and name may contain letters,
// digits, underscores, and hyphens.
var filenamePattern = regexp.MustCompile( //nolint:gochecknoglobals // compiled once, used by LoadFromDir
	`^(\d+)_([a-zA-Z0-9_-]+)\.sql$`,
)

// Sentinel lines separating the apply and revert sections of a migration
// file. Matching is case-insensitive and tolerates trailing comment text.
var (
	upMarker   = regexp.MustCompile(`(?i)^--\s*\+up\b`)   //nolint:gochecknoglobals // compiled once
	downMarker = regexp.MustCompile(`(?i)^--\s*\+down\b`) //nolint:gochecknoglobals // compiled once
)

// LoadFromDir scans a directory for migration files and returns them sorted
// by version ascending. Files that do not match the naming pattern are
// skipped (logged at debug level). Two files claiming the same version is
// an error, as is a file whose sentinel markers are missing, duplicated,
// or out of order.
func LoadFromDir(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory %s: %w", dir, err)
	}

	var migrations []Migration

	byVersion := make(map[int64]string)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		matches := filenamePattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			logrus.WithField("file", entry.Name()).Debug("skipping non-migration file")
			continue
		}

		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: file %s: version %q is not a valid integer",
				ErrMalformedMigration, entry.Name(), matches[1])
		}

		if prev, exists := byVersion[version]; exists {
			return nil, fmt.Errorf("%w: version %d found in both %s and %s",
				ErrDuplicateVersion, version, prev, entry.Name())
		}

		byVersion[version] = entry.Name()

		m, err := readMigration(filepath.Join(dir, entry.Name()), version, matches[2])
		if err != nil {
			return nil, err
		}

		migrations = append(migrations, m)
	}

	return Sort(migrations), nil
}

// readMigration reads one migration file and splits it into up/down sections.
func readMigration(path string, version int64, name string) (Migration, error) {
	f, err := os.Open(path)
	if err != nil {
		return Migration{}, fmt.Errorf("reading migration file %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	upSQL, downSQL, err := splitSections(f, path)
	if err != nil {
		return Migration{}, err
	}

	return Migration{
		Version:  version,
		Name:     name,
		UpSQL:    upSQL,
		DownSQL:  downSQL,
		Checksum: ComputeChecksum(upSQL),
		FilePath: path,
	}, nil
}

// splitSections scans the file line by line. Content before "-- +up" is
// ignored; content between "-- +up" and "-- +down" becomes the up section;
// content after "-- +down" becomes the down section. The up marker must
// appear exactly once, the down marker at most once and only after the up
// marker.
func splitSections(f *os.File, path string) (upSQL, downSQL string, err error) {
	var up, down strings.Builder

	foundUp := false
	foundDown := false

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case upMarker.MatchString(line):
			if foundUp {
				return "", "", fmt.Errorf("%w: file %s: duplicate -- +up marker", ErrMalformedMigration, path)
			}

			foundUp = true

		case downMarker.MatchString(line):
			if foundDown {
				return "", "", fmt.Errorf("%w: file %s: duplicate -- +down marker", ErrMalformedMigration, path)
			}

			if !foundUp {
				return "", "", fmt.Errorf("%w: file %s: -- +down marker before -- +up", ErrMalformedMigration, path)
			}

			foundDown = true

		case foundDown:
			down.WriteString(line)
			down.WriteString("\n")

		case foundUp:
			up.WriteString(line)
			up.WriteString("\n")
		}
	}

	if err := scanner.Err(); err != nil {
		return "", "", fmt.Errorf("reading migration file %s: %w", path, err)
	}

	if !foundUp {
		return "", "", fmt.Errorf("%w: file %s: missing -- +up marker", ErrMalformedMigration, path)
	}

	return strings.TrimSpace(up.String()), strings.TrimSpace(down.String()), nil
}

package cmd

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/eaburns/ilgraph/asm"
	"github.com/eaburns/ilgraph/internal/run"
)

// listingFiles returns the listing files named by paths.
// A directory names the .il files directly within it.
func listingFiles(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		var dirFiles []string
		for _, e := range entries {
			if !e.IsDir() && filepath.Ext(e.Name()) == ".il" {
				dirFiles = append(dirFiles, filepath.Join(path, e.Name()))
			}
		}
		sort.Strings(dirFiles)
		files = append(files, dirFiles...)
	}
	return files, nil
}

// loadJobs parses the listings named by paths.
func loadJobs(paths []string) ([]run.Job, error) {
	files, err := listingFiles(paths)
	if err != nil {
		return nil, err
	}
	var jobs []run.Job
	for _, file := range files {
		f, err := asm.ParseFile(file)
		if err != nil {
			return nil, err
		}
		for _, m := range f.Methods {
			jobs = append(jobs, run.Job{Path: file, Method: m})
		}
	}
	return jobs, nil
}

package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"
)

// tailFile prints the last n lines of path, then, if follow, keeps
// printing newly-appended lines by polling file size — the same
// size-growth check internal/supervisor uses to detect agent activity,
// reused here since a CLI log tail has the identical shape.
func tailFile(path string, n int, follow bool) error {
	lines, err := lastLines(path, n)
	if err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Println(l)
	}
	if !follow {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	pos, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}

	for {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.Size() > pos {
			if _, err := f.Seek(pos, io.SeekStart); err != nil {
				return err
			}
			scanner := bufio.NewScanner(f)
			scanner.Buffer(make([]byte, 64*1024), 1<<20)
			for scanner.Scan() {
				fmt.Println(scanner.Text())
			}
			pos = info.Size()
		}
		time.Sleep(250 * time.Millisecond)
	}
}

// lastLines returns the final n lines of path (all of them if the file
// has fewer).
func lastLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		all = append(all, scanner.Text())
	}
	if len(all) <= n {
		return all, nil
	}
	return all[len(all)-n:], nil
}

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CaptureStore files recorded pulse streams as <dir>/<unixnano>.<gates>.pulse.
type CaptureStore struct {
	baseDir string
}

func NewCaptureStore(dir string) (*CaptureStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &CaptureStore{dir}, nil
}

func (cs *CaptureStore) OpenFile(gates int) (*os.File, error) {
	fn := filepath.Join(cs.baseDir, fmt.Sprintf("%d.%d.pulse", time.Now().UnixNano(), gates))
	return os.OpenFile(fn, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
}

type CaptureFile struct {
	Gates int       `json:"gates"`
	Date  time.Time `json:"date"`
	Path  string    `json:"path"`
	Size  int64     `json:"size"`
}

// Captures lists recordings, oldest first.
func (cs *CaptureStore) Captures() (ret []CaptureFile, err error) {
	files, err := os.ReadDir(cs.baseDir)
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		if !strings.HasSuffix(file.Name(), ".pulse") {
			continue
		}
		spl := strings.Split(file.Name(), ".")
		if len(spl) != 3 {
			continue
		}
		ntime64, err := strconv.ParseInt(spl[0], 10, 64)
		if err != nil {
			continue
		}
		gates, err := strconv.Atoi(spl[1])
		if err != nil {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		ret = append(ret, CaptureFile{
			Gates: gates,
			Date:  time.Unix(0, ntime64),
			Path:  filepath.Join(cs.baseDir, file.Name()),
			Size:  info.Size(),
		})
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Date.Before(ret[j].Date) })
	return ret, nil
}

package storage

import (
	"compress/gzip"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/saviobatista/arnavi-gateway/internal/types"
)

const (
	filePrefix = "arnavi_"
	fileSuffix = ".log"
	dayLayout  = "2006-01-02"
)

// Storage archives raw device frames into one text file per UTC day
type Storage struct {
	outputDir  string
	logger     zerolog.Logger
	now        func() time.Time
	file       *os.File
	currentDay string
	mu         sync.Mutex
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// New creates a new Storage instance
func New(outputDir string, logger zerolog.Logger) *Storage {
	return &Storage{
		outputDir: outputDir,
		logger:    logger,
		now:       time.Now,
		stopChan:  make(chan struct{}),
	}
}

// FileName returns the archive file name for the UTC day of t
func FileName(t time.Time) string {
	return filePrefix + t.UTC().Format(dayLayout) + fileSuffix
}

// FormatFrame renders one archive line without the trailing newline
func FormatFrame(frame *types.RawFrame) string {
	identifier := frame.Identifier
	if identifier == "" {
		identifier = "-"
	}
	return strings.Join([]string{
		frame.Timestamp.UTC().Format(time.RFC3339Nano),
		frame.Remote,
		identifier,
		hex.EncodeToString(frame.Data),
	}, "\t")
}

// Start opens today's file, compresses files left over from earlier days
// and starts the rotation timer
func (s *Storage) Start() error {
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	s.mu.Lock()
	err := s.openFile()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := s.compressStale(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to compress previous archives")
	}

	s.wg.Add(1)
	go s.rotationTimer()

	return nil
}

// Stop closes the current file and stops the rotation timer
func (s *Storage) Stop() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// WriteFrame appends a frame to the current day's file
func (s *Storage) WriteFrame(frame *types.RawFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil || s.currentDay != s.today() {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	_, err := io.WriteString(s.file, FormatFrame(frame)+"\n")
	return err
}

// rotationTimer handles daily rotation at midnight UTC
func (s *Storage) rotationTimer() {
	defer s.wg.Done()

	for {
		now := s.now().UTC()
		nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)

		select {
		case <-time.After(nextMidnight.Sub(now)):
			s.mu.Lock()
			err := s.rotate()
			s.mu.Unlock()
			if err != nil {
				s.logger.Error().Err(err).Msg("failed to rotate archive")
			}
		case <-s.stopChan:
			return
		}
	}
}

func (s *Storage) today() string {
	return s.now().UTC().Format(dayLayout)
}

// rotate closes the current file, compresses it when its day has passed and
// opens today's file. Callers hold mu.
func (s *Storage) rotate() error {
	previous := s.currentDay
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to close archive")
		}
		s.file = nil
	}

	if previous != "" && previous != s.today() {
		path := filepath.Join(s.outputDir, filePrefix+previous+fileSuffix)
		if _, err := os.Stat(path); err == nil {
			if err := compressFile(path); err != nil {
				return fmt.Errorf("failed to compress file: %w", err)
			}
			s.logger.Info().Str("file", path+".gz").Msg("archive compressed")
		}
	}

	return s.openFile()
}

// openFile opens the file for today. Callers hold mu.
func (s *Storage) openFile() error {
	day := s.today()
	filename := filepath.Join(s.outputDir, filePrefix+day+fileSuffix)

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	s.file = file
	s.currentDay = day
	return nil
}

// compressStale compresses uncompressed archives from days before today
func (s *Storage) compressStale() error {
	matches, err := filepath.Glob(filepath.Join(s.outputDir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return err
	}
	current := FileName(s.now())
	for _, path := range matches {
		if filepath.Base(path) == current {
			continue
		}
		if err := compressFile(path); err != nil {
			return fmt.Errorf("failed to compress %s: %w", path, err)
		}
	}
	return nil
}

// compressFile gzips path into path.gz and removes the original
func compressFile(path string) error {
	source, err := os.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()

	target, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer target.Close()

	gzipWriter := gzip.NewWriter(target)
	gzipWriter.Name = filepath.Base(path)

	if _, err := io.Copy(gzipWriter, source); err != nil {
		return err
	}
	if err := gzipWriter.Close(); err != nil {
		return err
	}
	if err := target.Close(); err != nil {
		return err
	}

	return os.Remove(path)
}

package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/partybeacon/internal/util"
)

// handleGetResources returns CPU, memory and database disk usage.
func (s *Server) handleGetResources(c *gin.Context) {
	usage, err := util.GetResourceUsage(filepath.Dir(s.cfg.GetDatabase().Path))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, usage)
}

// handleGetResults returns the most recent reservation outcomes.
func (s *Server) handleGetResults(c *gin.Context) {
	if s.audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reservation audit is not enabled"})
		return
	}

	limit := queryCount(c, "limit", 50, 500)
	entries, err := s.audit.RecentResults(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"results": entries,
		"count":   len(entries),
	})
}

// queryCount parses a positive integer query value, falling back to def
// and capping at max.
func queryCount(c *gin.Context, key string, def, max int) int {
	n, err := strconv.Atoi(c.DefaultQuery(key, strconv.Itoa(def)))
	if err != nil || n < 1 {
		n = def
	}
	if n > max {
		n = max
	}
	return n
}

// handleGetLogEntries returns the tail of today's log file. The optional
// level and component query values filter the entries.
func (s *Server) handleGetLogEntries(c *gin.Context) {
	filter := logFilter{
		count:     queryCount(c, "count", 100, 1000),
		level:     c.Query("level"),
		component: c.Query("component"),
	}

	entries, err := tailLogEntries(s.cfg.GetLogging().Directory, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

type logEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

type logFilter struct {
	count     int
	level     string
	component string
}

func (f logFilter) match(e logEntry) bool {
	if f.level != "" && !strings.EqualFold(f.level, e.Level) {
		return false
	}
	return f.component == "" || f.component == e.Component
}

// Fields lifted out of every zerolog record.
var reservedLogKeys = map[string]bool{
	"level": true, "time": true, "message": true,
	"caller": true, "app": true, "component": true,
}

// tailLogEntries keeps the last matching entries of the newest log file.
func tailLogEntries(logDir string, filter logFilter) ([]logEntry, error) {
	path, err := newestLogFile(logDir)
	if err != nil || path == "" {
		return []logEntry{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]logEntry, 0, filter.count)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry := parseLogLine(line)
		if !filter.match(entry) {
			continue
		}
		if len(ring) == filter.count {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return ring, nil
}

// newestLogFile returns the most recently modified .log file, or "" if
// there is none.
func newestLogFile(logDir string) (string, error) {
	dirEntries, err := os.ReadDir(logDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}

	var (
		newest  string
		newestT time.Time
	)
	for _, e := range dirEntries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".log" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestT) {
			newest, newestT = filepath.Join(logDir, e.Name()), info.ModTime()
		}
	}
	return newest, nil
}

func parseLogLine(line string) logEntry {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return logEntry{Message: line}
	}

	entry := logEntry{
		Timestamp: stringFromMap(raw, "time"),
		Level:     stringFromMap(raw, "level"),
		Component: stringFromMap(raw, "component"),
		Message:   stringFromMap(raw, "message"),
	}
	for k, v := range raw {
		if reservedLogKeys[k] {
			continue
		}
		if entry.Fields == nil {
			entry.Fields = make(map[string]interface{})
		}
		entry.Fields[k] = v
	}
	return entry
}

func stringFromMap(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

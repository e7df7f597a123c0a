package hashring

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Encode writes the committed-ring metadata format: one "<name> <host> <port>"
// line per member in ring order. Hashes and predecessors are not written;
// they are recomputed from host:port on load.
func (r *Ring) Encode() []byte {
	var buf bytes.Buffer
	for _, n := range r.Nodes() {
		fmt.Fprintf(&buf, "%s %s %d\n", n.Name, n.Host, n.Port)
	}
	return buf.Bytes()
}

// ParseMetadata rebuilds a committed ring. Every member comes back RUNNING.
func ParseMetadata(data []byte) (*Ring, error) {
	nodes, err := parseLines(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	for i := range nodes {
		nodes[i].Status = StatusRunning
	}
	return FromNodes(nodes...)
}

// ParseSeeds reads the seed membership list into OFFLINE nodes.
func ParseSeeds(r io.Reader) ([]Node, error) {
	nodes, err := parseLines(r)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if seen[n.Name] {
			return nil, fmt.Errorf("duplicate seed node %s", n.Name)
		}
		seen[n.Name] = true
	}
	return nodes, nil
}

func parseLines(r io.Reader) ([]Node, error) {
	var nodes []Node
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: expected \"<name> <host> <port>\", got %q", lineNo, line)
		}
		port, err := strconv.Atoi(fields[2])
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("line %d: invalid port %q", lineNo, fields[2])
		}
		nodes = append(nodes, NewNode(fields[0], fields[1], port))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read node list: %w", err)
	}
	return nodes, nil
}

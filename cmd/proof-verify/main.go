package main

import (
	"bufio"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

type row struct {
	Seq       string
	PrevHex   string
	HashHex   string
	Canonical string
}

// errInput marks problems with the export itself (unreadable CSV, missing
// columns) as opposed to a chain that does not verify.
var errInput = errors.New("input error")

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func normHex(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// verify walks the exported chain and returns the number of rows and the last
// hash. With strong set every hash is recomputed from prev_hash_hex and
// payload_canonical.
func verify(in io.Reader, head string, strong bool) (int, string, error) {
	r := csv.NewReader(bufio.NewReader(in))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return 0, "", fmt.Errorf("%w: read header: %v", errInput, err)
	}

	col := map[string]int{}
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	need := []string{"seq", "prev_hash_hex", "hash_hex"}
	if strong {
		need = append(need, "payload_canonical")
	}
	for _, c := range need {
		if _, ok := col[c]; !ok {
			return 0, "", fmt.Errorf("%w: missing column %s", errInput, c)
		}
	}

	var (
		lineNo   = 1
		lastHash string
		rows     int
	)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		lineNo++
		if err != nil {
			return rows, lastHash, fmt.Errorf("%w: csv read: %v", errInput, err)
		}
		if len(rec) < len(header) {
			return rows, lastHash, fmt.Errorf("%w: line %d: short record", errInput, lineNo)
		}

		cur := row{
			Seq:     rec[col["seq"]],
			PrevHex: normHex(rec[col["prev_hash_hex"]]),
			HashHex: normHex(rec[col["hash_hex"]]),
		}
		if strong {
			cur.Canonical = rec[col["payload_canonical"]]
		}

		if _, err := hex.DecodeString(cur.PrevHex); err != nil {
			return rows, lastHash, fmt.Errorf("line %d: invalid prev_hash_hex: %v", lineNo, err)
		}
		if _, err := hex.DecodeString(cur.HashHex); err != nil {
			return rows, lastHash, fmt.Errorf("line %d: invalid hash_hex: %v", lineNo, err)
		}

		// prev_hash(i) == hash(i-1)
		if rows > 0 && cur.PrevHex != lastHash {
			return rows, lastHash, fmt.Errorf("prev_hash mismatch at seq=%s line=%d\nexpected=%s\ngot=%s",
				cur.Seq, lineNo, lastHash, cur.PrevHex)
		}
		if strong {
			if want := sha256Hex(cur.PrevHex + cur.Canonical); want != cur.HashHex {
				return rows, lastHash, fmt.Errorf("hash mismatch at seq=%s line=%d\nexpected=%s\ngot=%s",
					cur.Seq, lineNo, want, cur.HashHex)
			}
		}

		lastHash = cur.HashHex
		rows++
	}

	if rows == 0 {
		return 0, "", errors.New("empty export")
	}
	if normHex(head) != lastHash {
		return rows, lastHash, fmt.Errorf("head hash mismatch\nexpected=%s\ngot=%s", normHex(head), lastHash)
	}
	return rows, lastHash, nil
}

func main() {
	var (
		inPath   = flag.String("in", "", "CSV exported from event_log_proof_export_v")
		headHash = flag.String("head", "", "expected head hash hex")
		strong   = flag.Bool("strong", false, "recompute every hash from payload_canonical")
	)
	flag.Parse()

	if *inPath == "" {
		fmt.Fprintln(os.Stderr, "missing -in")
		os.Exit(2)
	}
	if *headHash == "" {
		fmt.Fprintln(os.Stderr, "missing -head")
		os.Exit(2)
	}

	f, err := os.Open(*inPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(2)
	}
	defer f.Close()

	rows, head, err := verify(f, *headHash, *strong)
	if err != nil {
		if errors.Is(err, errInput) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "FAIL:", err)
		os.Exit(1)
	}

	mode := "chain"
	if *strong {
		mode = "chain+hashes"
	}
	fmt.Printf("OK: %s verified (%d rows). head=%s\n", mode, rows, head)
}

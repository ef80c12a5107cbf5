/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package ingest turns vendor documentation into device descriptors:
// text extraction, identity and parameter parsing, error and
// maintenance tables. The pipeline is deterministic and never invents
// fields the document does not support.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

const (
	// fallbackThreshold: below this yield the layout extractor is
	// considered to have failed and the simpler path runs.
	fallbackThreshold = 200
	// floorChars: below this the document is rejected outright.
	floorChars = 50
)

var ErrDocumentTooThin = errors.New("document yielded too little text")

// ExtractText pulls the text out of a document. PDF files go through a
// layout-ordered row extractor first, then the plain-text stream when
// the yield is thin. Non-PDF files are read as UTF-8 text. No network
// access on any path.
func ExtractText(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}

	var text string

	if bytes.HasPrefix(raw, []byte("%PDF")) {
		text = extractPDF(path)
	}

	if len(text) < fallbackThreshold && utf8.Valid(raw) && !bytes.HasPrefix(raw, []byte("%PDF")) {
		text = string(raw)
	}

	if len(strings.TrimSpace(text)) < floorChars {
		return "", ErrDocumentTooThin
	}

	return text, nil
}

func extractPDF(path string) string {
	text := extractByRows(path)
	if len(text) >= fallbackThreshold {
		return text
	}

	return extractPlain(path)
}

// extractByRows walks pages top to bottom emitting one line per visual
// row, which keeps table structure intact for the regex passes.
func extractByRows(path string) string {
	f, r, err := pdf.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	var b strings.Builder

	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}

		rows, err := page.GetTextByRow()
		if err != nil {
			continue
		}

		for _, row := range rows {
			for j, word := range row.Content {
				if j > 0 {
					b.WriteByte(' ')
				}

				b.WriteString(word.S)
			}

			b.WriteByte('\n')
		}
	}

	return b.String()
}

func extractPlain(path string) string {
	f, r, err := pdf.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	stream, err := r.GetPlainText()
	if err != nil {
		return ""
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(stream); err != nil {
		return ""
	}

	return buf.String()
}

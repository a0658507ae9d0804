package xmldb

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
)

// docInfo is the catalog entry for one scenario document.
type docInfo struct {
	path     string
	scenario string
	date     string
	version  string
}

// docIndex holds the doc-level inverted index built when a local store is
// opened. Document IDs are positions in docs; scenario and region names
// map to bitmaps of the documents that contain them, so a filtered query
// only touches the documents that can match.
type docIndex struct {
	docs       []docInfo
	byScenario map[string]*roaring.Bitmap
	byRegion   map[string]*roaring.Bitmap
}

func buildIndex(paths []string) (*docIndex, error) {
	idx := &docIndex{
		byScenario: make(map[string]*roaring.Bitmap),
		byRegion:   make(map[string]*roaring.Bitmap),
	}

	for _, p := range paths {
		info, regions, err := scanDocument(p)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", filepath.Base(p), err)
		}

		docID := uint32(len(idx.docs))
		idx.docs = append(idx.docs, info)
		addToBitmap(idx.byScenario, info.scenario, docID)
		for _, r := range regions {
			addToBitmap(idx.byRegion, r, docID)
		}
	}

	return idx, nil
}

func addToBitmap(m map[string]*roaring.Bitmap, key string, docID uint32) {
	bm, ok := m[key]
	if !ok {
		bm = roaring.New()
		m[key] = bm
	}
	bm.Add(docID)
}

// all returns a bitmap of every document.
func (idx *docIndex) all() *roaring.Bitmap {
	bm := roaring.New()
	bm.AddRange(0, uint64(len(idx.docs)))
	return bm
}

// candidates intersects the scenario and region filters into the set of
// documents a query needs to visit.
func (idx *docIndex) candidates(filter Filter) *roaring.Bitmap {
	result := idx.all()

	if len(filter.Scenarios) > 0 {
		result = roaring.And(result, unionOf(idx.byScenario, filter.Scenarios))
	}
	if len(filter.Regions) > 0 {
		result = roaring.And(result, unionOf(idx.byRegion, filter.Regions))
	}

	return result
}

func unionOf(m map[string]*roaring.Bitmap, keys []string) *roaring.Bitmap {
	result := roaring.New()
	for _, k := range keys {
		if bm, ok := m[k]; ok {
			result.Or(bm)
		}
	}
	return result
}

// scanDocument stream-reads one document, collecting the scenario catalog
// fields and the set of region names. It never builds a DOM; full parsing
// is deferred until a query actually needs the document.
func scanDocument(path string) (docInfo, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return docInfo{}, nil, err
	}
	defer f.Close()

	info := docInfo{path: path}
	regionSet := make(map[string]bool)
	var regions []string

	dec := xml.NewDecoder(f)
	dec.Strict = false

	sawRoot := false
	inVersion := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return docInfo{}, nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case !sawRoot:
				sawRoot = true
				info.scenario = findAttr(t, "name")
				info.date = findAttr(t, "date")
				if info.scenario == "" {
					base := filepath.Base(path)
					info.scenario = strings.TrimSuffix(base, filepath.Ext(base))
				}
			case t.Name.Local == "model-version":
				inVersion = true
			case t.Name.Local == "region":
				if name := findAttr(t, "name"); name != "" && !regionSet[name] {
					regionSet[name] = true
					regions = append(regions, name)
				}
			}
		case xml.EndElement:
			if t.Name.Local == "model-version" {
				inVersion = false
			}
		case xml.CharData:
			if inVersion {
				info.version += strings.TrimSpace(string(t))
			}
		}
	}

	if !sawRoot {
		return docInfo{}, nil, fmt.Errorf("no root element")
	}

	return info, regions, nil
}

func findAttr(e xml.StartElement, name string) string {
	for _, a := range e.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

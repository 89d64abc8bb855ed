package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/PentesterFlow/OpenAudit/internal/model"
)

var (
	bucketCrawls    = []byte("crawls")
	bucketPages     = []byte("pages")
	bucketPageIndex = []byte("page_index")
	bucketSEO       = []byte("seo_metadata")
	bucketLinks     = []byte("links")
	bucketImages    = []byte("images")
	bucketIssues    = []byte("issues")

	allBuckets = [][]byte{
		bucketCrawls, bucketPages, bucketPageIndex, bucketSEO,
		bucketLinks, bucketImages, bucketIssues,
	}
	// crawl-scoped buckets, keyed "<crawl id>/<sequence>"
	childBuckets = [][]byte{bucketPages, bucketSEO, bucketLinks, bucketImages, bucketIssues}
)

// Bolt implements Store on a bbolt file. Records are JSON values; every
// crawl-scoped bucket is keyed by crawl ID plus an insertion sequence, so a
// prefix scan lists a crawl's records in insertion order.
type Bolt struct {
	db   *bolt.DB
	path string
}

// OpenBolt opens (or creates) the database at path.
func OpenBolt(path string, timeout time.Duration) (*Bolt, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Bolt{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Bolt) Path() string {
	return s.path
}

func crawlPrefix(crawlID string) []byte {
	return []byte(crawlID + "/")
}

func childKey(b *bolt.Bucket, crawlID string) ([]byte, error) {
	seq, err := b.NextSequence()
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("%s/%016d", crawlID, seq)), nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return b.Put(key, data)
}

func scanPrefix(b *bolt.Bucket, prefix []byte, fn func(k, v []byte) error) error {
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func deletePrefix(b *bolt.Bucket, prefix []byte) error {
	var keys [][]byte
	err := scanPrefix(b, prefix, func(k, _ []byte) error {
		keys = append(keys, append([]byte(nil), k...))
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func listJSON[T any](db *bolt.DB, bucket []byte, crawlID string) ([]*T, error) {
	out := make([]*T, 0)
	err := db.View(func(tx *bolt.Tx) error {
		return scanPrefix(tx.Bucket(bucket), crawlPrefix(crawlID), func(_, v []byte) error {
			var item T
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			out = append(out, &item)
			return nil
		})
	})
	return out, err
}

func getCrawl(tx *bolt.Tx, id string) (*model.Crawl, error) {
	data := tx.Bucket(bucketCrawls).Get([]byte(id))
	if data == nil {
		return nil, notFound(id)
	}
	var c model.Crawl
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func crawlExists(tx *bolt.Tx, id string) bool {
	return tx.Bucket(bucketCrawls).Get([]byte(id)) != nil
}

func pageExists(tx *bolt.Tx, id string) bool {
	return tx.Bucket(bucketPageIndex).Get([]byte(id)) != nil
}

// CreateCrawl stores a new crawl.
func (s *Bolt) CreateCrawl(ctx context.Context, crawl *model.Crawl) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketCrawls), []byte(crawl.ID), crawl)
	})
}

// GetCrawl loads a crawl.
func (s *Bolt) GetCrawl(ctx context.Context, id string) (*model.Crawl, error) {
	var crawl *model.Crawl
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		crawl, err = getCrawl(tx, id)
		return err
	})
	return crawl, err
}

// CrawlExists reports whether the crawl is present.
func (s *Bolt) CrawlExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = crawlExists(tx, id)
		return nil
	})
	return exists, err
}

func (s *Bolt) updateCrawl(id string, fn func(*model.Crawl)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		c, err := getCrawl(tx, id)
		if err != nil {
			return err
		}
		fn(c)
		return putJSON(tx.Bucket(bucketCrawls), []byte(id), c)
	})
}

// UpdateProgress records crawl progress.
func (s *Bolt) UpdateProgress(ctx context.Context, id string, pagesCrawled, totalLinks int) error {
	return s.updateCrawl(id, func(c *model.Crawl) {
		c.PagesCrawled = pagesCrawled
		c.TotalLinks = totalLinks
		c.UpdatedAt = time.Now().UTC()
	})
}

// UpdateStatus moves the crawl to status.
func (s *Bolt) UpdateStatus(ctx context.Context, id string, status model.Status, errMsg string) error {
	return s.updateCrawl(id, func(c *model.Crawl) {
		applyStatus(c, status, errMsg, time.Now().UTC())
	})
}

// ListCrawlsByStatus returns crawls in any of statuses, oldest first.
func (s *Bolt) ListCrawlsByStatus(ctx context.Context, statuses ...model.Status) ([]*model.Crawl, error) {
	out := make([]*model.Crawl, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCrawls).ForEach(func(_, v []byte) error {
			var c model.Crawl
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if containsStatus(statuses, c.Status) {
				out = append(out, &c)
			}
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, err
}

// DeleteCrawl removes the crawl and all its records.
func (s *Bolt) DeleteCrawl(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if !crawlExists(tx, id) {
			return notFound(id)
		}

		index := tx.Bucket(bucketPageIndex)
		err := scanPrefix(tx.Bucket(bucketPages), crawlPrefix(id), func(_, v []byte) error {
			var p model.Page
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			return index.Delete([]byte(p.ID))
		})
		if err != nil {
			return err
		}

		for _, name := range childBuckets {
			if err := deletePrefix(tx.Bucket(name), crawlPrefix(id)); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketCrawls).Delete([]byte(id))
	})
}

// InsertPage stores a page.
func (s *Bolt) InsertPage(ctx context.Context, page *model.Page) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if !crawlExists(tx, page.CrawlID) {
			return deleted("insert page for crawl", page.CrawlID)
		}
		b := tx.Bucket(bucketPages)
		key, err := childKey(b, page.CrawlID)
		if err != nil {
			return err
		}
		if err := putJSON(b, key, page); err != nil {
			return err
		}
		return tx.Bucket(bucketPageIndex).Put([]byte(page.ID), key)
	})
}

func (s *Bolt) updatePage(tx *bolt.Tx, key []byte, fn func(*model.Page)) error {
	b := tx.Bucket(bucketPages)
	var p model.Page
	if err := json.Unmarshal(b.Get(key), &p); err != nil {
		return err
	}
	fn(&p)
	return putJSON(b, key, &p)
}

// UpdateImagesCount sets a page's image count.
func (s *Bolt) UpdateImagesCount(ctx context.Context, pageID string, count int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketPageIndex).Get([]byte(pageID))
		if key == nil {
			return deleted("update page", pageID)
		}
		return s.updatePage(tx, key, func(p *model.Page) {
			p.ImagesCount = count
		})
	})
}

// ListPages returns a crawl's pages in insertion order.
func (s *Bolt) ListPages(ctx context.Context, crawlID string) ([]*model.Page, error) {
	return listJSON[model.Page](s.db, bucketPages, crawlID)
}

// SetPrimary marks primaryIDs primary and every other page not primary.
func (s *Bolt) SetPrimary(ctx context.Context, crawlID string, primaryIDs []string) error {
	primary := make(map[string]bool, len(primaryIDs))
	for _, id := range primaryIDs {
		primary[id] = true
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if !crawlExists(tx, crawlID) {
			return deleted("set primary for crawl", crawlID)
		}
		var keys [][]byte
		err := scanPrefix(tx.Bucket(bucketPages), crawlPrefix(crawlID), func(k, _ []byte) error {
			keys = append(keys, append([]byte(nil), k...))
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range keys {
			err := s.updatePage(tx, key, func(p *model.Page) {
				p.IsPrimary = primary[p.ID]
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertSEOMetadata stores a page's SEO metadata.
func (s *Bolt) InsertSEOMetadata(ctx context.Context, meta *model.SEOMetadata) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if !pageExists(tx, meta.PageID) {
			return deleted("insert seo metadata for page", meta.PageID)
		}
		b := tx.Bucket(bucketSEO)
		key, err := childKey(b, meta.CrawlID)
		if err != nil {
			return err
		}
		return putJSON(b, key, meta)
	})
}

// ListSEOMetadata returns a crawl's SEO metadata.
func (s *Bolt) ListSEOMetadata(ctx context.Context, crawlID string) ([]*model.SEOMetadata, error) {
	return listJSON[model.SEOMetadata](s.db, bucketSEO, crawlID)
}

// InsertLinks stores links in one transaction.
func (s *Bolt) InsertLinks(ctx context.Context, links []*model.Link) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLinks)
		for _, l := range links {
			if !pageExists(tx, l.SourcePageID) {
				return deleted("insert link for page", l.SourcePageID)
			}
			key, err := childKey(b, l.CrawlID)
			if err != nil {
				return err
			}
			if err := putJSON(b, key, l); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListLinks returns a crawl's links.
func (s *Bolt) ListLinks(ctx context.Context, crawlID string) ([]*model.Link, error) {
	return listJSON[model.Link](s.db, bucketLinks, crawlID)
}

// InsertImages stores images in one transaction.
func (s *Bolt) InsertImages(ctx context.Context, images []*model.Image) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketImages)
		for _, img := range images {
			if !pageExists(tx, img.PageID) {
				return deleted("insert image for page", img.PageID)
			}
			key, err := childKey(b, img.CrawlID)
			if err != nil {
				return err
			}
			if err := putJSON(b, key, img); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListImages returns a crawl's images.
func (s *Bolt) ListImages(ctx context.Context, crawlID string) ([]*model.Image, error) {
	return listJSON[model.Image](s.db, bucketImages, crawlID)
}

// InsertIssues stores issues in one transaction.
func (s *Bolt) InsertIssues(ctx context.Context, issues []*model.Issue) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIssues)
		for _, is := range issues {
			if !crawlExists(tx, is.CrawlID) {
				return deleted("insert issue for crawl", is.CrawlID)
			}
			if is.PageID != nil && !pageExists(tx, *is.PageID) {
				return deleted("insert issue for page", *is.PageID)
			}
			key, err := childKey(b, is.CrawlID)
			if err != nil {
				return err
			}
			if err := putJSON(b, key, is); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteIssues removes every issue of a crawl.
func (s *Bolt) DeleteIssues(ctx context.Context, crawlID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return deletePrefix(tx.Bucket(bucketIssues), crawlPrefix(crawlID))
	})
}

// ListIssues returns a crawl's issues.
func (s *Bolt) ListIssues(ctx context.Context, crawlID string) ([]*model.Issue, error) {
	return listJSON[model.Issue](s.db, bucketIssues, crawlID)
}

// Close closes the database.
func (s *Bolt) Close() error {
	return s.db.Close()
}

package btree

import (
	"github.com/shelfdb/shelfdb/internal/lhmap"
)

// pageSlotCount mirrors the cache engine's 16-way striping; page IDs are
// distributed across stripes by id mod 16, per spec section 4.3 "Two
// LinkedHashMaps per slot (striped by id mod 16)".
const pageSlotCount = 16

// hotWarmRatio is hot-cache capacity relative to warm, per spec section
// 4.3 "ratio 4:1".
const hotWarmRatio = 4

// cachedPage holds a decoded node. Exactly one of leaf/inner is non-nil.
type cachedPage struct {
	leaf  *leafNode
	inner *innerNode
}

// pageStripe is one of the 16 independently managed hot/warm page slots.
//
// This cache is read-through only: mutations are written to the
// underlying hash engine immediately rather than buffered and flushed
// lazily as spec section 4.3 describes. Buffering dirty pages and
// flushing them under cache pressure would need a write-back path that
// can fail independently of the mutation that dirtied the page - a
// correctness hazard (a lost buffered page means a silently stale tree)
// that isn't worth the write-amplification savings here, since the
// hash engine already batches its own header/WAL flushes. See DESIGN.md.
type pageStripe struct {
	hot, warm *lhmap.LinkedHashMap[uint64, *cachedPage]
	hotCap    int
	warmCap   int
}

func newPageStripe(capPerStripe int) *pageStripe {
	if capPerStripe <= 0 {
		capPerStripe = 256
	}

	warmCap := capPerStripe / (hotWarmRatio + 1)
	if warmCap < 1 {
		warmCap = 1
	}

	return &pageStripe{
		hot:     lhmap.New[uint64, *cachedPage](),
		warm:    lhmap.New[uint64, *cachedPage](),
		hotCap:  capPerStripe - warmCap,
		warmCap: warmCap,
	}
}

// pageCache is the full striped hot/warm cache for one tree.
type pageCache struct {
	stripes [pageSlotCount]*pageStripe
}

func newPageCache(totalCap int) *pageCache {
	perStripe := totalCap / pageSlotCount

	c := &pageCache{}
	for i := range c.stripes {
		c.stripes[i] = newPageStripe(perStripe)
	}

	return c
}

func stripeFor(id uint64) int { return int(id % pageSlotCount) }

// get looks up id, promoting a warm hit to hot (a node's "second access"
// promotion per spec section 4.3).
func (c *pageCache) get(id uint64) (*cachedPage, bool) {
	s := c.stripes[stripeFor(id)]

	if p, ok := s.hot.Get(id); ok {
		s.hot.MoveToFront(id)

		return p, true
	}

	if p, ok := s.warm.Get(id); ok {
		s.warm.Delete(id)
		s.promoteToHot(id, p)

		return p, true
	}

	return nil, false
}

// loadInto installs a page freshly read from storage into warm, per spec
// section 4.3 "A node promoted from storage enters warm".
func (c *pageCache) loadInto(id uint64, p *cachedPage) {
	s := c.stripes[stripeFor(id)]

	s.warm.Put(id, p)
	if s.warm.Len() > s.warmCap {
		s.warm.PopOldest()
	}
}

// put installs or refreshes a page that the caller just created or
// mutated, placing it directly in hot since it was just used.
func (c *pageCache) put(id uint64, p *cachedPage) {
	c.promoteToHot(id, p)
}

func (c *pageCache) promoteToHot(id uint64, p *cachedPage) {
	s := c.stripes[stripeFor(id)]

	s.hot.Put(id, p)
	s.hot.MoveToFront(id)

	if s.hot.Len() > s.hotCap {
		demotedID, demoted, ok := s.hot.PopOldest()
		if ok {
			s.warm.Put(demotedID, demoted)
			if s.warm.Len() > s.warmCap {
				s.warm.PopOldest()
			}
		}
	}
}

// invalidate drops id from both tiers - used when a node is deleted by a
// merge so a stale cached copy can't resurrect it.
func (c *pageCache) invalidate(id uint64) {
	s := c.stripes[stripeFor(id)]
	s.hot.Delete(id)
	s.warm.Delete(id)
}

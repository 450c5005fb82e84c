package darkpool

import (
	"strings"

	"github.com/huandu/skiplist"
)

type pendingKey struct {
	requestedAt int64
	id          string
}

// pendingIndex orders the matching requests awaiting a compute callback by request time,
// oldest first. It is owned by the DarkPool actor and rebuilt from the ledger on start.
type pendingIndex struct {
	list *skiplist.SkipList
}

func newPendingIndex() *pendingIndex {
	return &pendingIndex{
		list: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			k1, _ := lhs.(pendingKey)
			k2, _ := rhs.(pendingKey)

			if k1.requestedAt > k2.requestedAt {
				return 1
			} else if k1.requestedAt < k2.requestedAt {
				return -1
			}

			return strings.Compare(k1.id, k2.id)
		})),
	}
}

func (p *pendingIndex) add(req *MatchingRequest) {
	p.list.Set(pendingKey{requestedAt: req.RequestedAt, id: req.ID}, req.ID)
}

func (p *pendingIndex) remove(req *MatchingRequest) {
	p.list.Remove(pendingKey{requestedAt: req.RequestedAt, id: req.ID})
}

func (p *pendingIndex) len() int {
	return p.list.Len()
}

// ids returns up to limit request ids, oldest first. limit <= 0 returns all of them.
func (p *pendingIndex) ids(limit int) []string {
	out := make([]string, 0, p.list.Len())
	for elem := p.list.Front(); elem != nil; elem = elem.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		id, _ := elem.Value.(string)
		out = append(out, id)
	}
	return out
}

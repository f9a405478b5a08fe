package chain

import "sync"

// Mempool keeps two FIFO queues: attested calls, then user calls.
// Within each bucket, order is admission order.
type Mempool struct {
	mu       sync.Mutex
	attested []*Tx
	user     []*Tx
	max      int
}

// NewMempool bounds the pool at max transactions; 0 means unbounded.
func NewMempool(max int) *Mempool {
	return &Mempool{max: max}
}

func (m *Mempool) Push(tx *Tx) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.max > 0 && len(m.attested)+len(m.user) >= m.max {
		return ErrMempoolFull
	}
	if tx.Attestation != nil {
		m.attested = append(m.attested, tx)
	} else {
		m.user = append(m.user, tx)
	}
	return nil
}

// Select removes and returns up to max transactions, attested first.
// max <= 0 drains the pool.
func (m *Mempool) Select(max int) []*Tx {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Tx
	pull := func(q *[]*Tx) {
		for len(*q) > 0 {
			if max > 0 && len(out) >= max {
				return
			}
			out = append(out, (*q)[0])
			(*q)[0] = nil
			*q = (*q)[1:]
		}
	}
	pull(&m.attested)
	pull(&m.user)
	return out
}

// Len returns total pending txs.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attested) + len(m.user)
}

package ivag

import (
	"sync"
)

var (
	poolLock  sync.Mutex
	floatPool = make(map[int]*sync.Pool)
)

// borrowFloats returns a zeroed scratch slice of length n.
func borrowFloats(n int) []float64 {
	poolLock.Lock()
	p, ok := floatPool[n]
	poolLock.Unlock()
	if ok {
		retVal := p.Get().([]float64)
		for i := range retVal {
			retVal[i] = 0
		}
		return retVal
	}
	return make([]float64, n)
}

// returnFloats hands a slice obtained from borrowFloats back to the pool.
func returnFloats(a []float64) {
	n := len(a)
	poolLock.Lock()
	p, ok := floatPool[n]
	if !ok {
		p = &sync.Pool{
			New: func() interface{} {
				return make([]float64, n)
			},
		}
		floatPool[n] = p
	}
	poolLock.Unlock()
	p.Put(a)
}

package inspect

import "github.com/gammazero/deque"

const defaultReplaySize = 128

type replayItem struct {
	seq  uint64
	data []byte
}

// replayBuffer keeps the most recent encoded events so a client that
// (re)connects can catch up before it sees live traffic.
type replayBuffer struct {
	size  int
	items deque.Deque[replayItem]
}

func (r *replayBuffer) push(seq uint64, data []byte) {
	if r.size <= 0 {
		return
	}
	r.items.PushBack(replayItem{seq: seq, data: data})
	if r.items.Len() > r.size {
		r.items.PopFront()
	}
}

// since returns the frames after seq. missed is true when events between
// seq and the oldest buffered frame have already been evicted.
//
// after == 0: 新连接, 重放全部缓存
// after > 0:  重连, 只补发之后的事件
func (r *replayBuffer) since(after uint64) (frames [][]byte, missed bool) {
	if r.items.Len() == 0 {
		return nil, false
	}
	if after > 0 && after+1 < r.items.Front().seq { // 缓存未命中
		missed = true
	}
	for i := 0; i < r.items.Len(); i++ {
		it := r.items.At(i)
		if it.seq > after {
			frames = append(frames, it.data)
		}
	}
	return frames, missed
}

func (r *replayBuffer) len() int {
	return r.items.Len()
}

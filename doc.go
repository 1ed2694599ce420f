// Package looper is a single-consumer, time-ordered message queue with
// asynchronous messages and synchronization barriers.
//
// Producers on any goroutine call Enqueue, PostBarrier and RemoveBarrier. One
// loop goroutine per Scheduler picks the next deliverable message and hands it
// to the Sink:
//
//   - messages are delivered in (due time, id) order, so equal due times keep
//     insertion order;
//   - a barrier at the head of the queue holds back synchronous messages while
//     async messages behind it keep flowing in time order;
//   - removing the barrier releases the synchronous backlog.
//
// Snapshot and All expose the pending entries for diagnostics.
//
//	s := looper.New(looper.WithSink(looper.SinkFunc(handle)))
//	if err := s.Start(); err != nil {
//		return err
//	}
//	defer s.Shutdown(time.Second)
//
//	token, _ := s.PostBarrier()
//	s.Enqueue("frame", 0, true)   // delivered
//	s.Enqueue("backlog", 0, false) // held until the barrier goes
//	s.RemoveBarrier(token)
package looper

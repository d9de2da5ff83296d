package process

// ThreadState represents the scheduler state of a thread
type ThreadState string

const (
	ThreadRunning    ThreadState = "R" // Running
	ThreadSleeping   ThreadState = "S" // Sleeping in an interruptible wait
	ThreadWaiting    ThreadState = "D" // Waiting in uninterruptible disk sleep
	ThreadZombie     ThreadState = "Z" // Zombie
	ThreadStopped    ThreadState = "T" // Stopped (on a signal)
	ThreadTracingStp ThreadState = "t" // Tracing stop
	ThreadPaging     ThreadState = "W" // Paging
	ThreadDead       ThreadState = "X" // Dead
	ThreadWakekill   ThreadState = "K" // Wakekill
	ThreadParked     ThreadState = "P" // Parked
	ThreadIdle       ThreadState = "I" // Idle kernel thread
)

// String returns the single letter state code
func (s ThreadState) String() string {
	return string(s)
}

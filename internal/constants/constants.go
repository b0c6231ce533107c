package constants

const (
	GameStatusWaiting  = "waiting"
	GameStatusPlaying  = "playing"
	GameStatusFinished = "finished"
)

const (
	RoleHost   = "host"
	RolePlayer = "player"
)

const (
	QueueGameFinished = "klasskamp.finished"
)

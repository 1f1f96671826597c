package peer

// ServiceName is the net/rpc name the peer registers its API under.
const ServiceName = "PeerAPI"

type IPeer interface {
	Backup(args *BackupArgs, reply *BackupReply) error
	Restore(args *RestoreArgs, reply *RestoreReply) error
	Delete(args *DeleteArgs, reply *DeleteReply) error
	Reclaim(args *ReclaimArgs, reply *ReclaimReply) error
	State(args *StateArgs, reply *StateReply) error
}

type BackupArgs struct {
	FilePath          string
	ReplicationDegree int
}

type ChunkBackup struct {
	ChunkNo     int
	Replication int
	Attempts    int
	Degraded    bool
}

type BackupReply struct {
	FileID   string
	Chunks   []ChunkBackup
	Degraded bool
}

type RestoreArgs struct {
	FilePath   string
	OutputPath string
}

type RestoreReply struct {
	FileID     string
	OutputPath string
	Size       int64
	Chunks     int
}

type DeleteArgs struct {
	FilePath string
}

type DeleteReply struct {
}

type ReclaimArgs struct {
	Kilobytes int64
}

type ReclaimReply struct {
	FreedBytes int64
	Chunks     []string
}

type StateArgs struct {
}

type File struct {
	Path              string
	FileID            string
	Size              int64
	ReplicationDegree int
	Chunks            int
}

type Chunk struct {
	ID                 string
	Size               int
	ReplicationDegree  int
	CurrentReplication int
}

type StateReply struct {
	PeerID        string
	Files         []File
	Chunks        []Chunk
	UsedBytes     int64
	CapacityBytes int64
}

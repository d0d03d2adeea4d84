package notesync

// Names in an account's tree.
// An account's tree is rooted at /<account id>;
// each object lives at objects/YYYY/MM/DD/<object id>,
// and moves to the same suffix beneath trash/objects when deleted.
const (
	KeystoreDir = "keystore"
	PublicKey   = "public"
	PrivateKey  = "private"

	ObjectsDir = "objects"
	TrashDir   = "trash/objects"

	// Sidecar files in each object directory.
	PasswordFile = "password"
	InfoFile     = "info.json"
	MtimeFile    = "mtime"
)

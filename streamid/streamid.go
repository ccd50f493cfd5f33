// Package streamid defines the closed catalog of wire stream IDs shared
// by the backup and restore pipelines. The numeric values are part of
// the wire protocol and must never be renumbered once assigned.
package streamid

// ID is a stream identifier tag carried in every record header. It
// determines how the record's payload is interpreted.
type ID int32

// The stream ID catalog. Values are assigned once and are
// never reused; new variants are appended, never inserted.
const (
	Unset ID = iota

	// Attribute records.
	UnixAttributes
	UnixAttributesEx
	HFSPlusAttributes

	// Primary data stream family.
	FileData
	SparseData
	Win32Data

	// Gzip-compressed variants.
	GzipData
	SparseGzipData
	Win32GzipData

	// LZO-compressed variants.
	CompressedData
	SparseCompressedData
	Win32CompressedData

	// Zstd-compressed variants (a domain-stack enrichment beyond the
	// classic catalog).
	ZstdData
	SparseZstdData
	Win32ZstdData

	// Encrypted variants of the above (encryption clears Sparse/Offsets,
	// so there is no SparseEncrypted* family — see transform package).
	EncryptedFileData
	EncryptedWin32Data
	EncryptedFileGzipData
	EncryptedWin32GzipData
	EncryptedFileCompressedData
	EncryptedWin32CompressedData
	EncryptedFileZstdData
	EncryptedWin32ZstdData

	// Resource fork / Finder info.
	MacOSForkData
	EncryptedMacOSForkData
	FinderInfo

	// ACL families.
	UnixAccessACL
	UnixDefaultACL
	XACLAccess
	XACLDefault
	XACLNFS4

	// Extended attributes.
	XACLXattr

	// Plugin / restore-object passthrough.
	PluginName
	RestoreObject

	// Crypto session and digests.
	EncryptedSessionData
	MD5Digest
	SHA1Digest
	SHA256Digest
	SHA512Digest
	SignedDigest

	// Side-channel progress records (HeartbeatMonitor), carried out of
	// band from the data stream proper but assigned IDs here so a
	// RecordLink implementation can multiplex them on the same wire if
	// it chooses to.
	ProgramNames
	ProgramData
)

var names = map[ID]string{
	Unset:                        "UNSET",
	UnixAttributes:               "UNIX_ATTRIBUTES",
	UnixAttributesEx:             "UNIX_ATTRIBUTES_EX",
	HFSPlusAttributes:            "HFSPLUS_ATTRIBUTES",
	FileData:                     "FILE_DATA",
	SparseData:                   "SPARSE_DATA",
	Win32Data:                    "WIN32_DATA",
	GzipData:                     "GZIP_DATA",
	SparseGzipData:               "SPARSE_GZIP_DATA",
	Win32GzipData:                "WIN32_GZIP_DATA",
	CompressedData:               "COMPRESSED_DATA",
	SparseCompressedData:         "SPARSE_COMPRESSED_DATA",
	Win32CompressedData:          "WIN32_COMPRESSED_DATA",
	ZstdData:                     "ZSTD_DATA",
	SparseZstdData:               "SPARSE_ZSTD_DATA",
	Win32ZstdData:                "WIN32_ZSTD_DATA",
	EncryptedFileData:            "ENCRYPTED_FILE_DATA",
	EncryptedWin32Data:           "ENCRYPTED_WIN32_DATA",
	EncryptedFileGzipData:        "ENCRYPTED_FILE_GZIP_DATA",
	EncryptedWin32GzipData:       "ENCRYPTED_WIN32_GZIP_DATA",
	EncryptedFileCompressedData:  "ENCRYPTED_FILE_COMPRESSED_DATA",
	EncryptedWin32CompressedData: "ENCRYPTED_WIN32_COMPRESSED_DATA",
	EncryptedFileZstdData:        "ENCRYPTED_FILE_ZSTD_DATA",
	EncryptedWin32ZstdData:       "ENCRYPTED_WIN32_ZSTD_DATA",
	MacOSForkData:                "MACOS_FORK_DATA",
	EncryptedMacOSForkData:       "ENCRYPTED_MACOS_FORK_DATA",
	FinderInfo:                   "FINDERINFO",
	UnixAccessACL:                "UNIX_ACCESS_ACL",
	UnixDefaultACL:               "UNIX_DEFAULT_ACL",
	XACLAccess:                   "XACL_ACCESS",
	XACLDefault:                  "XACL_DEFAULT",
	XACLNFS4:                     "XACL_NFS4",
	XACLXattr:                    "XACL_XATTR",
	PluginName:                   "PLUGIN_NAME",
	RestoreObject:                "RESTORE_OBJECT",
	EncryptedSessionData:         "ENCRYPTED_SESSION_DATA",
	MD5Digest:                    "MD5_DIGEST",
	SHA1Digest:                   "SHA1_DIGEST",
	SHA256Digest:                 "SHA256_DIGEST",
	SHA512Digest:                 "SHA512_DIGEST",
	SignedDigest:                 "SIGNED_DIGEST",
	ProgramNames:                 "PROGRAM_NAMES",
	ProgramData:                  "PROGRAM_DATA",
}

// String implements fmt.Stringer.
func (id ID) String() string {
	if s, ok := names[id]; ok {
		return s
	}
	return "UNKNOWN"
}

// EndOfData is the terminal marker sent between a file's record group
// and the next. It never carries a payload: record.Codec.SignalEOD
// sends it as a zero-length header with this id, and RestoreFSM treats
// a record with this id as the close of the current file.
const EndOfData ID = -1

// IsACL reports whether id identifies one of the ACL stream families.
func IsACL(id ID) bool {
	switch id {
	case UnixAccessACL, UnixDefaultACL, XACLAccess, XACLDefault, XACLNFS4:
		return true
	}
	return false
}

// IsXattr reports whether id identifies the xattr stream family.
func IsXattr(id ID) bool {
	return id == XACLXattr
}

// IsDigest reports whether id identifies one of the four file-verify
// digest families (not SignedDigest, which is the signing digest).
func IsDigest(id ID) bool {
	switch id {
	case MD5Digest, SHA1Digest, SHA256Digest, SHA512Digest:
		return true
	}
	return false
}

// IsFork reports whether id identifies one of the resource-fork
// families.
func IsFork(id ID) bool {
	return id == MacOSForkData || id == EncryptedMacOSForkData
}

package highlevel

import "fmt"

// MissingDescriptorError reports a consensus relay whose server
// descriptor could not be found, either because it was never supplied
// or because on-disk lookup failed to locate it.
type MissingDescriptorError struct {
	Digest string
}

func (e *MissingDescriptorError) Error() string {
	return fmt.Sprintf("highlevel: missing descriptor for digest %s", e.Digest)
}

// InvalidFolderStructureError reports that neither the current nor the
// previous month's server-descriptors folder exists next to the
// consensus file being resolved.
type InvalidFolderStructureError struct {
	ConsensusPath string
}

func (e *InvalidFolderStructureError) Error() string {
	return fmt.Sprintf("highlevel: no server-descriptors folder found near %s", e.ConsensusPath)
}

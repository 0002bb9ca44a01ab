// Package simpleasset normalizes media produced by mutually incompatible
// generation providers into one canonical Asset that can be fed to any
// provider's next operation.
//
// An AssetStore owns the engine components: the Registry of canonical asset
// rows, the UploadCache that resolves a provider-specific identifier for an
// asset (fetching and re-uploading at most once per provider), the
// LineageGraph and BranchGraph derivation graphs, and the Evictor that keeps
// the local byte cache bounded. Repositories (memory, Postgres, SQLite), byte
// stores (memory, filesystem, S3, GCS) and provider uploaders are provided
// under subpackages.
//
// Provider Upload Cache
//
// Asset.ProviderUploads always contains the origin provider's identifier. A
// request for any other provider that misses the map claims the
// (asset, provider) pair in a process-wide in-flight table; concurrent
// requests for the same pair wait on the claim owner's result instead of
// starting a second upload.
package simpleasset

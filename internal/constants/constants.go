// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Quality assessment constants
const (
	// ExposureLowCutoff is the brightness at or below which a pixel counts as near-black
	ExposureLowCutoff = 10

	// ExposureHighCutoff is the brightness at or above which a pixel counts as near-white
	ExposureHighCutoff = 245
)

// Verification constants
const (
	// VerifySize is the common edge length both images are resized to before SSIM/histogram checks
	VerifySize = 128

	// SSIMWindow is the side of the square window used for local SSIM statistics
	SSIMWindow = 8

	// SSIMStride is the step between SSIM windows
	SSIMStride = 4
)

// Tournament constants
const (
	// EloBase is the starting rating before the prior boost is applied
	EloBase = 1000.0

	// EloK is the Elo update factor
	EloK = 24.0

	// RatioTemperature scales elo differences when converting them to keep ratios
	RatioTemperature = 200.0

	// BlendMatches is the number of matches after which the learned ratio fully replaces the uniform prior
	BlendMatches = 4

	// MaxPriorBoost caps the elo head start from cluster size and preference
	MaxPriorBoost = 120.0

	// StabilityStreak is the number of consecutive matches with an unchanged top-3 needed to stop early
	StabilityStreak = 3

	// MinGamesForStability is the number of games every cluster needs before the stability rule applies
	MinGamesForStability = 2

	// MomentumLength is the number of recent outcomes kept per cluster
	MomentumLength = 3
)

// Clustering constants
const (
	// MinKMeansClusters and MaxKMeansClusters bound the sqrt(n) heuristic for phase 1
	MinKMeansClusters = 6
	MaxKMeansClusters = 24

	// KMeansIterations bounds Lloyd iterations
	KMeansIterations = 100

	// KMeansSeed makes clustering reproducible across runs
	KMeansSeed = 42

	// KMeansRestarts is the number of k-means++ initializations; the lowest inertia wins
	KMeansRestarts = 10

	// PhaseOneRepresentatives is the number of representatives listed per k-means cluster
	PhaseOneRepresentatives = 6

	// TopPrefForClusterScore is the number of best images averaged into a cluster preference score
	TopPrefForClusterScore = 5

	// DescriptorsPerCluster is the number of descriptors tried when naming a cluster
	DescriptorsPerCluster = 3

	// StylesTopK is the number of mood scores listed per image
	StylesTopK = 4
)

// Orchestrator constants
const (
	// MaxSafeFilenameLength caps staged file names
	MaxSafeFilenameLength = 180

	// LogTailBytes is the size of the log excerpt attached to a failed stage
	LogTailBytes = 2000

	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100

	// DefaultSimilarLimit is the default limit for similarity search results
	DefaultSimilarLimit = 12
)

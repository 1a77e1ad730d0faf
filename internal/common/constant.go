package common

// SessionCookieName is the cookie carrying the signed session token.
const SessionCookieName = "session"

// SessionTokenSize is the number of random bytes behind a session token.
const SessionTokenSize = 32

// TensorShapeMetadataKey is the gRPC metadata key describing the shape of a
// preprocessed image tensor sent to the classifier backend.
const TensorShapeMetadataKey = "x-tensor-shape"

// Package audio holds the sample-format primitives shared by the capture,
// playback and analysis components: PCM16 codec, linear resampler, level and
// spectrum math, and the host device capability interfaces.
//
// Every buffer that crosses the package boundary is mono, signed 16-bit
// little-endian PCM; float samples are normalized to [-1, 1].
package audio

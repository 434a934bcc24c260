// Package audio owns the process's audio output. It decodes rendered prayer
// audio (mp3, wav or raw PCM), converts it to the output format and plays it
// through the system device using the oto/v3 library.
package audio

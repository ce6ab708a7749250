// Copyright 2024 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

package mds

// FlattenRecord takes a decoded JSON object and returns a flat map suitable
// for columnar storage. Scalar values are kept as-is. Values which are
// themselves objects are flattened one level deep, joining the keys with a
// double underscore (owner.login becomes owner__login). Arrays and objects
// nested deeper than one level don't map onto a flat column and are dropped.
func FlattenRecord(rec map[string]interface{}) map[string]interface{} {
	flat := make(map[string]interface{}, len(rec))
	for k, v := range rec {
		switch vt := v.(type) {
		case map[string]interface{}:
			for ck, cv := range vt {
				if !isScalar(cv) {
					continue
				}
				flat[k+"__"+ck] = cv
			}
		case []interface{}:
			// no column representation
		default:
			flat[k] = v
		}
	}
	return flat
}

// isScalar reports whether v is a value that maps directly onto a single
// column cell. nil counts: it becomes a null cell.
func isScalar(v interface{}) bool {
	switch v.(type) {
	case nil, bool, float64, string:
		return true
	}
	return false
}

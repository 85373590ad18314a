// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

const (
	// MinSize is the smallest possible RTU ADU: unit id + function + CRC.
	MinSize = 4
	// MaxSize is the largest possible RTU ADU: 253-byte PDU + unit id + CRC.
	MaxSize = 256

	// ExceptionSize is the fixed length of an exception response ADU:
	// unit id, function|0x80, exception code, CRC.
	ExceptionSize = 5
)

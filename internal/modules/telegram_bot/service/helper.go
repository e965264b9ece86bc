package service

import "strconv"

func f4(v float64) string { // для красивого вывода
	return strconv.FormatFloat(v, 'f', 4, 64)
}

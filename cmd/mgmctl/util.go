package main

import "strconv"

func parseUint(s string) (uint64, error) { return strconv.ParseUint(s, 10, 64) }
func parseInt64(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }

package main

// Provider blank imports. Each import activates a self-registering adapter.

import (
	_ "github.com/Strob0t/CoachForge/internal/adapter/slack"
)

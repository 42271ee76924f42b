package config

const sampleDocument = `
[settings]
default_on_startup = false
smart_toggle = true
notify_manual = false
notify_rules = true
match_by_index = true
log_level = "debug"

[[sinks]]
name = "alsa_output.pci-0000_00_1f.3.analog-stereo"
desc = "Speakers"
icon = "audio-speakers"
default = true

[[sinks]]
name = "alsa_output.usb-Headset.analog-stereo"
desc = "Headphones"
default = false

[[rules]]
app_id = "^mpv$"
sink = "Headphones"
desc = "Video player"
notify = false

[[rules]]
app_id = "^firefox$"
title = "YouTube"
sink = "2"
`

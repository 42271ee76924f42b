package pipewire

const dumpFixture = `[
  {
    "id": 0,
    "type": "PipeWire:Interface:Core",
    "info": {"props": {"core.name": "pipewire-0"}}
  },
  {
    "id": 40,
    "type": "PipeWire:Interface:Device",
    "info": {
      "props": {
        "device.name": "alsa_card.pci-0000_00_1f.3",
        "device.description": "Built-in Audio",
        "media.class": "Audio/Device"
      },
      "params": {
        "EnumProfile": [
          {"index": 0, "name": "off", "description": "Off", "available": "yes"},
          {"index": 1, "name": "output:analog-stereo+input:analog-stereo", "description": "Analog Stereo Duplex", "available": "yes"},
          {"index": 2, "name": "output:hdmi-stereo", "description": "Digital Stereo (HDMI)", "available": "yes"},
          {"index": 3, "name": "output:hdmi-stereo-extra1", "description": "Digital Stereo (HDMI 2)", "available": "no"},
          {"index": 4, "name": "input:analog-stereo", "description": "Analog Stereo Input", "available": "yes"}
        ],
        "Profile": [
          {"index": 1, "name": "output:analog-stereo+input:analog-stereo"}
        ]
      }
    }
  },
  {
    "id": 41,
    "type": "PipeWire:Interface:Device",
    "info": {
      "props": {
        "device.name": "bluez_card.AA_BB_CC_DD_EE_FF",
        "device.description": "Headset",
        "media.class": "Audio/Device"
      },
      "params": {
        "EnumProfile": [
          {"index": 0, "name": "off", "available": "yes"},
          {"index": 1, "name": "a2dp-sink", "description": "High Fidelity Playback", "available": "yes"}
        ],
        "Profile": [
          {"index": 0, "name": "off"}
        ]
      }
    }
  },
  {
    "id": 52,
    "type": "PipeWire:Interface:Node",
    "info": {
      "props": {
        "node.name": "alsa_output.pci-0000_00_1f.3.analog-stereo",
        "node.description": "Built-in Audio Analog Stereo",
        "media.class": "Audio/Sink",
        "device.id": 40
      }
    }
  },
  {
    "id": 53,
    "type": "PipeWire:Interface:Node",
    "info": {
      "props": {
        "node.name": "alsa_input.pci-0000_00_1f.3.analog-stereo",
        "media.class": "Audio/Source",
        "device.id": 40
      }
    }
  },
  {
    "id": 54,
    "type": "PipeWire:Interface:Node",
    "info": {
      "props": {
        "node.name": "effect_output.virtual",
        "media.class": "Audio/Sink"
      }
    }
  },
  {
    "id": 60,
    "type": "PipeWire:Interface:Metadata",
    "props": {"metadata.name": "default"},
    "metadata": [
      {"subject": 0, "key": "default.configured.audio.sink", "type": "Spa:String:JSON", "value": {"name": "alsa_output.usb-old"}},
      {"subject": 0, "key": "default.audio.sink", "type": "Spa:String:JSON", "value": {"name": "alsa_output.pci-0000_00_1f.3.analog-stereo"}}
    ]
  }
]`

const hdmiActiveFixture = `[
  {
    "id": 40,
    "type": "PipeWire:Interface:Device",
    "info": {
      "props": {"device.name": "alsa_card.pci-0000_00_1f.3", "media.class": "Audio/Device"},
      "params": {
        "EnumProfile": [{"index": 2, "name": "output:hdmi-stereo", "available": "yes"}],
        "Profile": [{"index": 2, "name": "output:hdmi-stereo"}]
      }
    }
  },
  {
    "id": 70,
    "type": "PipeWire:Interface:Node",
    "info": {
      "props": {
        "node.name": "alsa_output.pci-0000_00_1f.3.hdmi-stereo",
        "media.class": "Audio/Sink",
        "device.id": "40"
      }
    }
  }
]`
